package metadata

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/ipfs/go-cid"
	"github.com/sirupsen/logrus"

	"github.com/SplitFi/go-oasis/service/content"
	"github.com/SplitFi/go-oasis/service/logger"
	"github.com/SplitFi/go-oasis/validate"
)

// ErrMalformed is returned when fetched metadata isn't a descriptor
var ErrMalformed = errors.New("malformed metadata")

// Descriptor is the JSON document a token URI points at. Field order is part of the encoding.
type Descriptor struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Image       string `json:"image"`
}

// Assembler pins an asset and the descriptor that references it
type Assembler struct {
	store     content.Store
	validator *validator.Validate
}

func NewAssembler(store content.Store) *Assembler {
	return &Assembler{store: store, validator: validator.New()}
}

// Assemble stores the image, then a descriptor referencing it, and returns the descriptor's
// identifier. Input is validated before anything is stored. If the image can't be stored no
// descriptor is built.
func (a *Assembler) Assemble(ctx context.Context, name, description string, image []byte) (cid.Cid, error) {
	if err := validate.ValidateFields(a.validator, validate.ValidationMap{
		"name":        validate.WithTag(strings.TrimSpace(name), "required,max=200"),
		"description": validate.WithTag(strings.TrimSpace(description), "required,max=2000"),
		"image":       validate.WithTag(image, "required,min=1"),
	}); err != nil {
		return cid.Undef, err
	}

	imageCID, err := a.store.Put(ctx, image)
	if err != nil {
		return cid.Undef, err
	}

	encoded, err := Encode(Descriptor{
		Name:        name,
		Description: description,
		Image:       content.FormatURI(imageCID),
	})
	if err != nil {
		return cid.Undef, err
	}

	metadataCID, err := a.store.Put(ctx, encoded)
	if err != nil {
		return cid.Undef, err
	}

	logger.For(ctx).WithFields(logrus.Fields{
		"imageCID":    imageCID.String(),
		"metadataCID": metadataCID.String(),
	}).Info("assembled token metadata")

	return metadataCID, nil
}

// Encode returns the canonical encoding of the descriptor: keys in declaration order, no HTML
// escaping and no trailing newline
func Encode(d Descriptor) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(d); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Parse decodes a descriptor. Documents that aren't JSON objects or carry none of the descriptor
// fields are malformed.
func Parse(data []byte) (Descriptor, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Descriptor{}, fmt.Errorf("%w: %s", ErrMalformed, err)
	}

	name, _ := raw["name"].(string)
	description, _ := raw["description"].(string)
	image, _ := raw["image"].(string)
	if image == "" {
		image, _ = raw["image_url"].(string)
	}

	if name == "" && description == "" && image == "" {
		return Descriptor{}, fmt.Errorf("%w: no descriptor fields present", ErrMalformed)
	}

	return Descriptor{Name: name, Description: description, Image: image}, nil
}

// Fetch retrieves and parses the descriptor addressed by c
func Fetch(ctx context.Context, store content.Getter, c cid.Cid) (Descriptor, error) {
	data, err := store.Get(ctx, c)
	if err != nil {
		return Descriptor{}, err
	}
	return Parse(data)
}
