package codec

import (
	"context"
	"fmt"

	"github.com/PolarWolf314/whanau/internal/familykey"
	"golang.org/x/sync/errgroup"
)

// each runs fn for every input in parallel and collects results in input order.
func each[In, Out any](ctx context.Context, inputs []In, fn func(In) (Out, error)) ([]Out, error) {
	out := make([]Out, len(inputs))
	if len(inputs) == 0 {
		return out, nil
	}

	g, ctx := errgroup.WithContext(ctx)
	for i, in := range inputs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			v, err := fn(in)
			if err != nil {
				return fmt.Errorf("item %d: %w", i, err)
			}
			out[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// EncryptMessages encrypts each message independently.
func EncryptMessages(ctx context.Context, messages []string, key *familykey.Key) ([]string, error) {
	return each(ctx, messages, func(m string) (string, error) { return EncryptMessage(m, key) })
}

// DecryptMessages decrypts each message independently. Any failure fails the batch.
func DecryptMessages(ctx context.Context, messages []string, key *familykey.Key) ([]string, error) {
	return each(ctx, messages, func(m string) (string, error) { return DecryptMessage(m, key) })
}

func EncryptFiles(ctx context.Context, files []Blob, key *familykey.Key) ([]Blob, error) {
	return each(ctx, files, func(f Blob) (Blob, error) { return EncryptFile(f, key) })
}

func DecryptFiles(ctx context.Context, files []Blob, key *familykey.Key) ([]Blob, error) {
	return each(ctx, files, func(f Blob) (Blob, error) { return DecryptFile(f, key) })
}
