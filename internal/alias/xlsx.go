package alias

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// titleCaser normalizes canonical names coming out of curation workbooks,
// where casing is inconsistent ("atorvastatin calcium", "LIPITOR").
var titleCaser = cases.Title(language.English)

// ReadXLSX parses a curation workbook into alias entries. The first sheet
// must have three columns: canonical name, brand names, variations. Brand
// and variation cells hold semicolon-separated lists. The first row is
// treated as a header and skipped.
func ReadXLSX(path string) ([]Entry, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "alias: open workbook %s", path)
	}
	if len(f.Sheets) == 0 {
		return nil, eris.Errorf("alias: workbook %s has no sheets", path)
	}

	var entries []Entry
	for i, row := range f.Sheets[0].Rows {
		if i == 0 {
			continue // header
		}
		cells := make([]string, 3)
		for j := 0; j < 3 && j < len(row.Cells); j++ {
			cells[j] = strings.TrimSpace(row.Cells[j].String())
		}
		if cells[0] == "" {
			continue
		}
		entries = append(entries, Entry{
			CanonicalName: titleCaser.String(strings.ToLower(cells[0])),
			BrandNames:    splitList(cells[1]),
			Variations:    splitList(cells[2]),
		})
	}

	if len(entries) == 0 {
		return nil, eris.Errorf("alias: workbook %s has no data rows", path)
	}
	return entries, nil
}

// WriteYAML writes alias entries as a YAML reference data file compatible
// with LoadFile.
func WriteYAML(path string, entries []Entry) error {
	data, err := yaml.Marshal(aliasFile{Medications: entries})
	if err != nil {
		return eris.Wrap(err, "alias: marshal yaml")
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return eris.Wrapf(err, "alias: write %s", path)
	}
	return nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ";")
	var out []string
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
