package model

// KnownModel identifies an embedding model whose output dimension is known.
type KnownModel string

const (
	ModelBGESmallENv15         KnownModel = "@cf/baai/bge-small-en-v1.5"
	ModelBGEBaseENv15          KnownModel = "@cf/baai/bge-base-en-v1.5"
	ModelBGELargeENv15         KnownModel = "@cf/baai/bge-large-en-v1.5"
	ModelOpenAIAda002          KnownModel = "openai/text-embedding-ada-002"
	ModelOpenAPIAda002         KnownModel = "openapi-text-embedding-ada-002"
	ModelCohereMultilingualV20 KnownModel = "cohere/embed-multilingual-v2.0"
)

var knownDimensions = map[KnownModel]int{
	ModelBGESmallENv15:         384,
	ModelBGEBaseENv15:          768,
	ModelBGELargeENv15:         1024,
	ModelOpenAIAda002:          1536,
	ModelOpenAPIAda002:         1536,
	ModelCohereMultilingualV20: 768,
}

// KnownModels lists every preset in a stable order.
var KnownModels = []KnownModel{
	ModelBGESmallENv15,
	ModelBGEBaseENv15,
	ModelBGELargeENv15,
	ModelOpenAIAda002,
	ModelOpenAPIAda002,
	ModelCohereMultilingualV20,
}

// Dimensions returns the embedding dimension produced by the model.
func (m KnownModel) Dimensions() (int, bool) {
	d, ok := knownDimensions[m]
	return d, ok
}

func (m KnownModel) String() string { return string(m) }
