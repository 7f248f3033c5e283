package anchor

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PGAnnotator writes ledger references back onto canonical records.
type PGAnnotator struct {
	DB *pgxpool.Pool
}

// SetAnchorRef implements Annotator. Updating a record that has since
// disappeared is not an error; there is nothing left to annotate.
func (a *PGAnnotator) SetAnchorRef(ctx context.Context, recordID, ref string) error {
	_, err := a.DB.Exec(ctx,
		`UPDATE collection SET anchor_ref = $2 WHERE id = $1`,
		recordID, ref)
	if err != nil {
		return fmt.Errorf("set anchor ref for %s: %w", recordID, err)
	}
	return nil
}
