package extract

import (
	"context"
	"testing"

	"github.com/findoc/backend/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentStreamText(t *testing.T) {
	tests := []struct {
		name   string
		stream string
		want   string
	}{
		{
			name: "positioned lines and TJ kerning",
			stream: `BT /F1 12 Tf 72 712 Td (Acme Corp Quarterly Report) Tj
0 -14 Td (Revenue: $1,200,000) Tj T*
[(Net)-300(income)] TJ ET`,
			want: "Acme Corp Quarterly Report\nRevenue: $1,200,000\nNet income",
		},
		{
			name:   "hex string",
			stream: `BT <48656C6C6F> Tj ET`,
			want:   "Hello",
		},
		{
			name:   "utf16 hex string",
			stream: `BT <FEFF00410042> Tj ET`,
			want:   "AB",
		},
		{
			name:   "escapes and octal",
			stream: `BT (a\(b\)c \101) Tj ET`,
			want:   "a(b)c A",
		},
		{
			name:   "quote operator starts a new line",
			stream: `BT (first) Tj (second) ' ET`,
			want:   "first\nsecond",
		},
		{
			name:   "small kerning is not a space",
			stream: `BT [(Cas)-20(h)] TJ ET`,
			want:   "Cash",
		},
		{
			name:   "graphics only",
			stream: `q 1 0 0 1 0 0 cm 0 0 100 100 re f Q`,
			want:   "",
		},
		{
			name:   "comments and dictionaries are skipped",
			stream: "% comment (ignored) Tj\n/P <</MCID 0>> BDC BT (kept) Tj ET EMC",
			want:   "kept",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ContentStreamText([]byte(tt.stream)))
		})
	}
}

func TestExtractRejectsNonPDF(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, "bad.pdf", []byte("definitely not a pdf"), "application/pdf"))

	_, err = NewPDFExtractor(store, t.TempDir()).Extract(ctx, "bad.pdf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read PDF context")
}

func TestExtractMissingObject(t *testing.T) {
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	_, err = NewPDFExtractor(store, t.TempDir()).Extract(context.Background(), "missing.pdf")
	assert.ErrorIs(t, err, storage.ErrObjectNotFound)
}
