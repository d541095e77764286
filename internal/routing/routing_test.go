package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassForFile(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		want    Class
		wantErr bool
	}{
		{"source", "main.c", ClassSource, false},
		{"pdf", "docs/report.pdf", ClassPDF, false},
		{"text", "notes.txt", ClassText, false},
		{"archive", "bundle.zip", ClassArchive, false},
		{"uppercase", "REPORT.PDF", ClassPDF, false},
		{"no extension", "Makefile", 0, true},
		{"unknown extension", "image.png", 0, true},
		{"trailing dot", "weird.", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ClassForFile(tt.file)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownExtension)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseClass(t *testing.T) {
	for _, s := range []string{".pdf", "pdf", "PDF"} {
		c, err := ParseClass(s)
		require.NoError(t, err, s)
		assert.Equal(t, ClassPDF, c)
	}
	c, err := ParseClass(".c")
	require.NoError(t, err)
	assert.Equal(t, ClassSource, c)

	_, err = ParseClass(".exe")
	assert.ErrorIs(t, err, ErrUnknownExtension)
}

func TestTable(t *testing.T) {
	tbl, err := NewTable(
		Tier{Class: ClassText, Addr: "127.0.0.1:9003"},
		Tier{Class: ClassPDF, Addr: "127.0.0.1:9002"},
		Tier{Class: ClassArchive, Addr: "127.0.0.1:9004"},
	)
	require.NoError(t, err)

	tier, ok := tbl.Lookup(ClassPDF)
	require.True(t, ok)
	assert.Equal(t, "127.0.0.1:9002", tier.Addr)
	assert.Equal(t, "pdf", tier.Name)

	_, ok = tbl.Lookup(ClassSource)
	assert.False(t, ok)

	// Aggregation order is fixed regardless of construction order.
	tiers := tbl.Tiers()
	require.Len(t, tiers, 3)
	assert.Equal(t, []Class{ClassPDF, ClassText, ClassArchive},
		[]Class{tiers[0].Class, tiers[1].Class, tiers[2].Class})
}

func TestTable_Invalid(t *testing.T) {
	_, err := NewTable(Tier{Class: ClassSource, Addr: "x"})
	assert.Error(t, err)

	_, err = NewTable(Tier{Class: ClassPDF})
	assert.Error(t, err)

	_, err = NewTable(
		Tier{Class: ClassPDF, Addr: "a"},
		Tier{Class: ClassPDF, Addr: "b"},
	)
	assert.Error(t, err)
}
