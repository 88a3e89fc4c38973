package ledger

import "context"

// OfflineSource is used when no settlement endpoint is configured. Issued
// hashes stay pending until an operator confirms the booking manually.
type OfflineSource struct{}

func (OfflineSource) Status(ctx context.Context, hash string) (Status, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return StatusUnknown, nil
}

func (OfflineSource) PaidAmong(ctx context.Context, hashes []string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, nil
}
