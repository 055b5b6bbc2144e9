package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/cml-optimizer/internal/config"
	"github.com/sells-group/cml-optimizer/internal/reconcile"
)

// ReadFile reads an .xlsx or .csv file into rows using the upload
// configuration's sheet name and column map.
func ReadFile(ctx context.Context, path string, cfg config.UploadConfig) ([]reconcile.Row, error) {
	cmap, err := LoadColumnMap(cfg.ColumnMapPath)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return ReadXLSX(path, XLSXOptions{SheetName: cfg.SheetName}, cmap)
	case ".csv":
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: open %s", path)
		}
		defer f.Close() //nolint:errcheck
		return ReadCSV(ctx, f, cmap)
	default:
		return nil, eris.Errorf("ingest: unsupported file type %q (want .xlsx or .csv)", filepath.Ext(path))
	}
}
