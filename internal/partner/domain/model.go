package domain

// Command is a gateway charge command.
type Command string

const (
	CommandRegister Command = "REGISTER"
	CommandCancel   Command = "CANCEL"
	CommandCharge   Command = "CHARGE"
)

func (c Command) Valid() bool {
	switch c {
	case CommandRegister, CommandCancel, CommandCharge:
		return true
	}
	return false
}

// GatewayResult is the decoded outcome of one gateway call. The client layer
// guarantees a non-nil result for every call: crypto and transport failures
// degrade to ResultCodeInternal with the raw body retained for diagnosis.
type GatewayResult struct {
	ResultCode    string
	ResultMessage string
	TransactionID string
	Raw           string
}

// Outcome classifies the result code.
func (r *GatewayResult) Outcome() Outcome {
	return Classify(r.ResultCode)
}

// Success reports whether the partner confirmed the charge.
func (r *GatewayResult) Success() bool {
	return r.ResultCode == ResultCodeSuccess
}
