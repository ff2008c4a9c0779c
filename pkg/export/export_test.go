package export

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rosterDataset() Dataset {
	return Dataset{
		Headers: []string{"Name", "Email"},
		Rows: []map[string]string{
			{"Name": `Ada "The Countess" Lovelace`, "Email": "ada@example.com"},
			{"Name": "Alan, Turing", "Email": "alan@example.com"},
		},
	}
}

func TestCSVExporterQuotesEveryField(t *testing.T) {
	out, err := NewCSVExporter().Render(rosterDataset())
	require.NoError(t, err)

	expected := strings.Join([]string{
		`"Name","Email"`,
		`"Ada ""The Countess"" Lovelace","ada@example.com"`,
		`"Alan, Turing","alan@example.com"`,
	}, "\n")
	assert.Equal(t, expected, string(out))
}

func TestCSVExporterHeaderOnly(t *testing.T) {
	out, err := NewCSVExporter().Render(Dataset{Headers: []string{"Name", "Email"}})
	require.NoError(t, err)
	assert.Equal(t, `"Name","Email"`, string(out))
}

func TestCSVExporterMissingColumnsRenderEmpty(t *testing.T) {
	out, err := NewCSVExporter().Render(Dataset{
		Headers: []string{"Name", "Major"},
		Rows:    []map[string]string{{"Name": "Grace"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "\"Name\",\"Major\"\n\"Grace\",\"\"", string(out))
}

func TestCSVExporterRequiresHeaders(t *testing.T) {
	_, err := NewCSVExporter().Render(Dataset{})
	assert.Error(t, err)
}

func TestPDFExporterRender(t *testing.T) {
	out, err := NewPDFExporter().Render(rosterDataset(), "CS101 - Intro", "2 students")
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF")))

	_, err = NewPDFExporter().Render(Dataset{}, "", "")
	assert.Error(t, err)
}
