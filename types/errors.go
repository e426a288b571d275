package types

// Reason is the closed set of machine-readable identifiers carried inside
// VerifyOutcome/SettleOutcome for a logical (non-transport) rejection. It is a
// protocol-level value, not a Go error.
type Reason string

const (
	ReasonInvalidSignature     Reason = "InvalidSignature"
	ReasonInvalidFormat        Reason = "InvalidFormat"
	ReasonUnsupportedScheme    Reason = "UnsupportedScheme"
	ReasonUnsupportedNetwork   Reason = "UnsupportedNetwork"
	ReasonChainIdMismatch      Reason = "ChainIdMismatch"
	ReasonRecipientMismatch    Reason = "RecipientMismatch"
	ReasonAssetMismatch        Reason = "AssetMismatch"
	ReasonInvalidPaymentAmount Reason = "InvalidPaymentAmount"
	ReasonExpired              Reason = "Expired"
	ReasonNotYetValid          Reason = "NotYetValid"
	ReasonInsufficientBalance  Reason = "InsufficientBalance"
	ReasonNonceAlreadyUsed     Reason = "NonceAlreadyUsed"
	ReasonPermit2AllowanceRequired Reason = "Permit2AllowanceRequired"
	ReasonPermitFailed         Reason = "PermitFailed"
	ReasonTransferFailed       Reason = "TransferFailed"
	ReasonSimulationFailed     Reason = "SimulationFailed"
	ReasonTransport            Reason = "Transport"
	ReasonTimeout              Reason = "Timeout"

	// Solana instruction-shape violations.
	ReasonProgramNotAllowed                     Reason = "ProgramNotAllowed"
	ReasonAdditionalInstructionsNotAllowed      Reason = "AdditionalInstructionsNotAllowed"
	ReasonFeePayerIncludedInInstructionAccounts Reason = "FeePayerIncludedInInstructionAccounts"
)
