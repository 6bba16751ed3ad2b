package redirect

import (
	"github.com/stretchr/testify/mock"
)

// MockScriptRunner is a mock implementation of ScriptRunner for testing.
type MockScriptRunner struct {
	mock.Mock
}

func (m *MockScriptRunner) RunInput(input string, name string, args ...string) (ProcessOutput, error) {
	callArgs := make([]interface{}, 0, len(args)+2)
	callArgs = append(callArgs, input, name)
	for _, a := range args {
		callArgs = append(callArgs, a)
	}
	result := m.Called(callArgs...)
	return result.Get(0).(ProcessOutput), result.Error(1)
}
