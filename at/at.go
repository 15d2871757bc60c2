// Package at implements the line-level AT command protocol: tokenizing
// the byte stream from a modem into lines, classifying each line, and
// carrying command results and unsolicited events to callers.
package at

// Line terminator used for both commands and responses.
const CRLF = "\r\n"

// Final result codes. A command exchange ends when one of these
// arrives.
const (
	OK    = "OK"
	ERROR = "ERROR"

	// CmeError prefixes verbose failure reports (AT+CMEE=2). The line
	// terminates the exchange just like ERROR.
	CmeError = "+CME ERROR:"
)

// Commands with no arguments. Parameterized commands are formatted at
// the call site.
const (
	CmdAt              = "AT"
	CmdEchoOff         = "ATE0"
	CmdVerboseErrors   = "AT+CMEE=2"
	CmdIMEI            = "AT+CGSN"
	CmdICCID           = "AT%CCID"
	CmdFirmwareVersion = "AT+CGMR"
	CmdOperatorAuto    = "AT+COPS=0"
	CmdOperatorNumeric = "AT+COPS=3,2"
	CmdOperatorQuery   = "AT+COPS?"
	CmdSignalQuality   = "AT+CSQ"
	CmdServingCell     = `AT%MEAS="95"`
)

// Tags of the unsolicited result codes the modem emits spontaneously.
// Only lines carrying these tags are events; every other %TAG: line is
// labelled response data for the command in flight.
const (
	UrcSocketEvent = "SOCKETEV"
	UrcStateEvent  = "STATEV"
)

var urcTags = map[string]struct{}{
	UrcSocketEvent: {},
	UrcStateEvent:  {},
}

// ResponseType classifies a tokenized line.
type ResponseType int

const (
	// TypeFinal is a final result code terminating a command exchange.
	TypeFinal ResponseType = iota
	// TypeURC is an unsolicited result code.
	TypeURC
	// TypeData is an information line belonging to the command in
	// flight.
	TypeData
)
