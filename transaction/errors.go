package transaction

import "fmt"

// LuaError is a scripting-side failure reported by the terminal's
// bridge script while processing a send request.
type LuaError struct {
	Msg string
}

func (e *LuaError) Error() string {
	return fmt.Sprintf("lua error: %s", e.Msg)
}

// TransactionError is a rejection of the transaction itself by the
// terminal before it reached the exchange, e.g. a malformed field.
type TransactionError struct {
	Msg string
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("transaction rejected: %s", e.Msg)
}
