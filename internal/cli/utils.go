// Package cli formats gallery output for the shashin command.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/hyperjump/shashin/internal/ingest"
	"github.com/hyperjump/shashin/internal/models"
	"github.com/hyperjump/shashin/internal/search"
	"github.com/hyperjump/shashin/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputCompact prints one line per asset.
	OutputCompact OutputFormat = "compact"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

const titleWidth = 60

// ParseOutputFormat validates a --output flag value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case "", OutputText:
		return OutputText, nil
	case OutputCompact, OutputJSON:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text, compact or json)", s)
	}
}

// WriteSearchResults writes a search response to w in the given format.
func WriteSearchResults(w io.Writer, response *search.Response, format OutputFormat) error {
	switch format {
	case OutputJSON:
		return writeJSON(w, response)
	case OutputCompact:
		for _, a := range response.Assets {
			fmt.Fprintf(w, "%s\t%s\t%s\n", a.ID, a.CreatedAt.Format("2006-01-02"), utils.Truncate(a.Title, titleWidth))
		}
		return nil
	default:
		writeSearchResultsText(w, response)
		return nil
	}
}

func writeSearchResultsText(w io.Writer, response *search.Response) {
	if response.Mode == search.ModeSemantic {
		fmt.Fprintf(w, "\nFound %d matches for %q in %dms\n\n", response.Total, response.Query, response.QueryTimeMs)
	} else {
		fmt.Fprintf(w, "\n%d assets, newest first\n\n", response.Total)
	}
	for i, a := range response.Assets {
		fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
		fmt.Fprintf(w, "%d. %s\n", i+1, titleOrPlaceholder(a.Title))
		writeAssetFields(w, a)
		fmt.Fprintln(w)
	}
	if len(response.Assets) < response.Total {
		fmt.Fprintf(w, "(showing %d of %d)\n", len(response.Assets), response.Total)
	}
}

// WriteAsset writes a single asset.
func WriteAsset(w io.Writer, asset *models.MediaAsset, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, asset)
	}
	fmt.Fprintf(w, "Title: %s\n", titleOrPlaceholder(asset.Title))
	writeAssetFields(w, asset)
	return nil
}

func writeAssetFields(w io.Writer, a *models.MediaAsset) {
	fmt.Fprintf(w, "ID: %s\n", a.ID)
	fmt.Fprintf(w, "Type: %s | Size: %s | Added: %s\n",
		a.ContentType, HumanBytes(a.SizeBytes), a.CreatedAt.Local().Format("2006-01-02 15:04"))
}

func titleOrPlaceholder(title string) string {
	if title == "" {
		return "(untitled)"
	}
	return utils.Truncate(title, titleWidth)
}

// WriteStatus writes the gallery status.
func WriteStatus(w io.Writer, st *ingest.Status, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, st)
	}
	fmt.Fprintf(w, "Assets:    %d (%d searchable)\n", st.Assets, st.Embedded)
	fmt.Fprintf(w, "Media:     %s\n", HumanBytes(st.MediaBytes))
	fmt.Fprintf(w, "Database:  %s\n", HumanBytes(st.DatabaseBytes))
	fmt.Fprintf(w, "Model:     %s (%d dimensions)\n", st.Model, st.Dimensions)
	for _, d := range st.WatchDirectories {
		fmt.Fprintf(w, "Watching:  %s\n", d)
	}
	return nil
}

// HumanBytes formats n with a binary unit suffix.
func HumanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
