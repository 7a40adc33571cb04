package domain

// Outcome is the internal classification of a partner result code.
type Outcome string

const (
	OutcomeSuccess    Outcome = "success"
	OutcomeUserCancel Outcome = "user_cancel"
	OutcomeTimeout    Outcome = "timeout"
	OutcomeFailed     Outcome = "failed"
)

// Classify maps a partner result code onto the internal outcome taxonomy.
// "0" is the only success code; "417" is a USSD timeout and "416" means the
// subscriber abandoned the OTP flow, both of which get dedicated outcomes so
// callers can distinguish them from hard failures.
func Classify(code string) Outcome {
	switch code {
	case ResultCodeSuccess:
		return OutcomeSuccess
	case ResultCodeTimeout:
		return OutcomeTimeout
	case ResultCodeUserCancel:
		return OutcomeUserCancel
	default:
		return OutcomeFailed
	}
}

const (
	ResultCodeSuccess    = "0"
	ResultCodeUserCancel = "416"
	ResultCodeTimeout    = "417"

	// ResultCodeInternal is the degraded code used when the gateway response
	// cannot be decoded or the call itself fails.
	ResultCodeInternal = "500"
)

// codeMessages is the partner's published result-code table.
var codeMessages = map[string]string{
	"0":   "Transaction success",
	"100": "Transaction was processed",
	"1":   "msisdn not found",
	"4":   "IP Client was wrong",
	"11":  "missed parameter",
	"13":  "missed parameter",
	"14":  "cp request id not found",
	"15":  "value is not found",
	"16":  "aes key is not found",
	"17":  "name item is not found",
	"18":  "category item is not found",
	"22":  "CP code is not valid or not active",
	"23":  "Payment is not valid",
	"24":  "transaction not confirm before",
	"25":  "CP Request Id is not valid",
	"101": "transaction was error",
	"102": "transaction was error when register",
	"103": "got error when pay by mobile account",
	"104": "Error when cancelling service",
	"201": "Signal is not valid",
	"202": "transaction was error or password not valid",
	"203": "MPS account not exist (msisdn/password not valid)",
	"204": "MPS account exist but msisdn not register CP service",
	"205": "MPS account exist and registed CP service",
	"207": "Conflict service when register",
	"401": "not enough balance",
	"402": "Subscriber check thanh toan fail",
	"403": "msisdn not existed",
	"404": "msisdn is not valid",
	"405": "msisdn was changed owner",
	"406": "not found mobile",
	"407": "missing parameters",
	"408": "msisdn is using service",
	"409": "msisdn was two ways blocked",
	"410": "msisdn is not valid",
	"411": "msisdn canceled service",
	"412": "msisdn not using service",
	"413": "parameter is not valid",
	"414": "msisdn in period recharge (recharge time < next charge time)",
	"415": "OTP code is not valid",
	"416": "OTP not exist or timeout",
	"417": "Error USSD time out",
	"440": "System error",
	"501": "msisdn not register",
	"503": "MPS was error",
}

// CodeMessage returns the partner's description for a result code. Unknown
// codes get a generic message; classification is unaffected.
func CodeMessage(code string) string {
	if msg, ok := codeMessages[code]; ok {
		return msg
	}
	return "Unknown error"
}
