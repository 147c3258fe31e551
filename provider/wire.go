package provider

// Request and response bodies of the provider HTTP API.

type metaAddressRequest struct {
	Label string `json:"label"`
}

type stealthAddressResponse struct {
	StealthAddress StealthAddress `json:"stealthAddress"`
	SharedSecret   []byte         `json:"sharedSecret"`
}

type ownershipRequest struct {
	StealthAddress  StealthAddress `json:"stealthAddress"`
	SpendPrivateKey []byte         `json:"spendPrivateKey"`
	ViewPrivateKey  []byte         `json:"viewPrivateKey"`
}

type boolResponse struct {
	Result bool `json:"result"`
}

type createCommitmentRequest struct {
	Value uint64 `json:"value"`
}

type verifyCommitmentRequest struct {
	Commitment     string `json:"commitment"`
	Value          uint64 `json:"value"`
	BlindingFactor []byte `json:"blindingFactor"`
}

type analyzeRequest struct {
	Address string `json:"address"`
	Limit   int    `json:"limit"`
}

type generateViewingKeyRequest struct {
	Path string `json:"path"`
}

type deriveViewingKeyRequest struct {
	Parent  ViewingKey `json:"parent"`
	Segment string     `json:"segment"`
}

type errorResponse struct {
	Error string `json:"error"`
}

const (
	pathMetaAddress       = "/provider/meta-address"
	pathStealthAddress    = "/provider/stealth-address"
	pathOwnership         = "/provider/ownership"
	pathScan              = "/provider/scan"
	pathCommitment        = "/provider/commitment"
	pathVerifyCommitment  = "/provider/commitment/verify"
	pathCombineCommitment = "/provider/commitment/combine"
	pathPrivacy           = "/provider/privacy"
	pathViewingKey        = "/provider/viewing-key"
	pathDeriveViewingKey  = "/provider/viewing-key/derive"

	idempotencyHeader = "Idempotency-Key"
)
