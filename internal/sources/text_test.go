package sources

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPlainText(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "empty", input: "", want: ""},
		{name: "plain text collapses whitespace", input: "  quantum \n  computing\t", want: "quantum computing"},
		{name: "search match spans", input: `<span class="searchmatch">Quantum</span> computing is`, want: "Quantum computing is"},
		{name: "entities", input: "Q&amp;A about &quot;qubits&quot;", want: `Q&A about "qubits"`},
		{name: "nested markup", input: "<p>First <b>bold</b></p><p>Second</p>", want: "First boldSecond"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PlainText(tt.input))
		})
	}
}
