package metadata

import (
	"context"
	"errors"
	"testing"

	"github.com/ipfs/go-cid"
	"github.com/stretchr/testify/assert"

	"github.com/SplitFi/go-oasis/service/content"
	"github.com/SplitFi/go-oasis/validate"
)

func TestAssemble_Success(t *testing.T) {
	a := setupTest(t)
	ctx := context.Background()

	t.Run("stores the image and a descriptor referencing it", func(t *testing.T) {
		store := content.NewMemoryStore()
		image := []byte{0x89, 'P', 'N', 'G'}

		metadataCID, err := NewAssembler(store).Assemble(ctx, "Sunset", "A picture of a sunset", image)
		a.NoError(err)
		a.Equal(2, store.Len())

		imageCID, err := content.ComputeCID(image)
		a.NoError(err)

		raw, err := store.Get(ctx, metadataCID)
		a.NoError(err)
		a.Equal(`{"name":"Sunset","description":"A picture of a sunset","image":"ipfs://`+imageCID.String()+`"}`, string(raw))

		d, err := Fetch(ctx, store, metadataCID)
		a.NoError(err)
		a.Equal("Sunset", d.Name)
		a.Equal(content.FormatURI(imageCID), d.Image)
	})

	t.Run("assembling the same input twice is idempotent", func(t *testing.T) {
		store := content.NewMemoryStore()
		assembler := NewAssembler(store)

		first, err := assembler.Assemble(ctx, "Item", "Desc", []byte("bytes"))
		a.NoError(err)
		size := store.Size()

		second, err := assembler.Assemble(ctx, "Item", "Desc", []byte("bytes"))
		a.NoError(err)
		a.Equal(first, second)
		a.Equal(size, store.Size())
	})

	t.Run("encoding does not escape html", func(t *testing.T) {
		b, err := Encode(Descriptor{Name: "<b>&</b>", Description: "d", Image: "ipfs://x"})
		a.NoError(err)
		a.Equal(`{"name":"<b>&</b>","description":"d","image":"ipfs://x"}`, string(b))
	})
}

func TestAssemble_Failure(t *testing.T) {
	a := setupTest(t)
	ctx := context.Background()

	t.Run("missing fields fail before anything is stored", func(t *testing.T) {
		for _, tc := range []struct {
			name, description string
			image             []byte
		}{
			{"", "desc", []byte("img")},
			{"name", "  ", []byte("img")},
			{"name", "desc", nil},
			{"name", "desc", []byte{}},
		} {
			store := &recordingStore{Store: content.NewMemoryStore()}
			_, err := NewAssembler(store).Assemble(ctx, tc.name, tc.description, tc.image)
			var invalid validate.ErrInvalidInput
			a.True(errors.As(err, &invalid))
			a.Equal(0, store.puts)
		}
	})

	t.Run("image failure stops before the descriptor is built", func(t *testing.T) {
		store := &recordingStore{Store: content.NewMemoryStore(), err: content.ErrStoreUnavailable{Op: "put", Err: errors.New("401 unauthorized")}}
		c, err := NewAssembler(store).Assemble(ctx, "name", "desc", []byte("img"))
		a.True(content.IsUnavailable(err))
		a.False(c.Defined())
		a.Equal(1, store.puts)
	})
}

func TestParse_Failure(t *testing.T) {
	a := setupTest(t)

	for _, raw := range []string{"not json", "[]", `{"foo":"bar"}`, ""} {
		_, err := Parse([]byte(raw))
		a.ErrorIs(err, ErrMalformed, raw)
	}
}

type recordingStore struct {
	content.Store
	err  error
	puts int
}

func (r *recordingStore) Put(ctx context.Context, data []byte) (cid.Cid, error) {
	r.puts++
	if r.err != nil {
		return cid.Undef, r.err
	}
	return r.Store.Put(ctx, data)
}

func setupTest(t *testing.T) *assert.Assertions {
	return assert.New(t)
}
