package tracking

// Asset types whose payload references other assets by identity.
const (
	TypeEmbeddings      = "embeddings"
	TypeConfusionMatrix = "confusion-matrix"
)

// AssetKind partitions asset types by whether their payload embeds
// references to other assets. The set of implementations is closed.
type AssetKind interface {
	assetKind()
	TypeName() string
}

// SimpleKind is any asset whose payload carries no asset references.
type SimpleKind struct {
	Type string
}

func (SimpleKind) assetKind()         {}
func (k SimpleKind) TypeName() string { return k.Type }

// CompositeKind is an asset whose JSON payload and metadata reference other
// assets of the same experiment. ReferenceKeys are the query parameter and
// field names holding those references.
type CompositeKind struct {
	Type          string
	ReferenceKeys []string
}

func (CompositeKind) assetKind()         {}
func (k CompositeKind) TypeName() string { return k.Type }

// assetId and imageId are synonyms in both composite payloads.
var referenceKeys = []string{"assetId", "imageId"}

// KindOf classifies an asset type. Unknown types are simple.
func KindOf(assetType string) AssetKind {
	switch assetType {
	case TypeEmbeddings, TypeConfusionMatrix:
		return CompositeKind{Type: assetType, ReferenceKeys: referenceKeys}
	default:
		if assetType == "" {
			assetType = "asset"
		}
		return SimpleKind{Type: assetType}
	}
}

// IsComposite reports whether assets of this type must wait for an IdMap.
func IsComposite(assetType string) bool {
	_, ok := KindOf(assetType).(CompositeKind)
	return ok
}
