package codec

import (
	"fmt"

	kerrors "github.com/PolarWolf314/whanau/internal/errors"
	"github.com/PolarWolf314/whanau/internal/familykey"
	"github.com/fxamacker/cbor/v2"
)

// OctetStream is the content type of every encrypted blob.
const OctetStream = "application/octet-stream"

// Blob is binary content with a MIME type.
type Blob struct {
	Data []byte
	Type string
}

// envelope is what gets sealed for a file. Keeping the type inside hides it from relays.
type envelope struct {
	Type string `cbor:"1,keyasint"`
	Data []byte `cbor:"2,keyasint"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{ExtraReturnErrors: cbor.ExtraDecErrorUnknownField}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// EncryptFile seals a blob. The result is always typed application/octet-stream.
func EncryptFile(file Blob, key *familykey.Key) (Blob, error) {
	payload, err := encMode.Marshal(envelope{Type: file.Type, Data: file.Data})
	if err != nil {
		return Blob{}, fmt.Errorf("encoding file envelope: %w", err)
	}
	sealed, err := seal(payload, key)
	if err != nil {
		return Blob{}, err
	}
	return Blob{Data: sealed, Type: OctetStream}, nil
}

// DecryptFile opens a blob produced by EncryptFile and restores its original type.
func DecryptFile(file Blob, key *familykey.Key) (Blob, error) {
	payload, err := open(file.Data, key)
	if err != nil {
		return Blob{}, err
	}
	var env envelope
	if err := decMode.Unmarshal(payload, &env); err != nil {
		return Blob{}, fmt.Errorf("decoding file envelope: %w", kerrors.ErrDecryptionFailed)
	}
	if env.Data == nil {
		env.Data = []byte{}
	}
	return Blob{Data: env.Data, Type: env.Type}, nil
}
