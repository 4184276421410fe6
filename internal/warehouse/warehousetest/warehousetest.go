// Package warehousetest seeds a throwaway SQLite tracking database with
// the canonical test dataset: three studies, two hundred samples, five
// single-sample experiments and three multiplexed experiments across five
// instrument slots each.
package warehousetest

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

// The three update times carried by fixture flowcell rows. Even-numbered
// experiments are Early; odd-numbered ones are Late, or Latest when a
// multiplexed experiment sits in an odd instrument slot.
var (
	Early  = time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC)
	Late   = time.Date(2020, 6, 14, 0, 0, 0, 0, time.UTC)
	Latest = time.Date(2020, 6, 30, 0, 0, 0, 0, time.UTC)
)

const timeLayout = "2006-01-02 15:04:05"

const schemaSQL = `
CREATE TABLE study (
	id_study_tmp INTEGER PRIMARY KEY AUTOINCREMENT,
	id_lims TEXT NOT NULL,
	id_study_lims TEXT NOT NULL,
	name TEXT,
	accession_number TEXT
);

CREATE TABLE sample (
	id_sample_tmp INTEGER PRIMARY KEY AUTOINCREMENT,
	id_lims TEXT NOT NULL,
	id_sample_lims TEXT NOT NULL,
	name TEXT,
	sanger_sample_id TEXT,
	accession_number TEXT,
	donor_id TEXT,
	supplier_name TEXT,
	consent_withdrawn INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE oseq_flowcell (
	id_oseq_flowcell_tmp INTEGER PRIMARY KEY AUTOINCREMENT,
	id_flowcell_lims TEXT NOT NULL,
	last_updated TEXT NOT NULL,
	id_sample_tmp INTEGER NOT NULL REFERENCES sample(id_sample_tmp),
	id_study_tmp INTEGER NOT NULL REFERENCES study(id_study_tmp),
	experiment_name TEXT NOT NULL,
	instrument_name TEXT NOT NULL,
	instrument_slot INTEGER NOT NULL,
	tag_set_id_lims TEXT,
	tag_set_name TEXT,
	tag_identifier INTEGER,
	tag_sequence TEXT,
	pipeline_id_lims TEXT NOT NULL,
	requested_data_type TEXT NOT NULL
);
`

// The ONT 12-barcode tag set used by the multiplexed experiments.
var barcodes = []string{
	"CACAAAGACACCGACAACTTTCTT",
	"ACAGACGACTACAAACGGAATCGA",
	"CCTGGTAACTGGGACACAAGACTC",
	"TAGGGAAACACGATAGAATCCGAA",
	"AAGGTTACACAAACCCTGGACAAG",
	"GACTACTTTCTGCCTTTGCGAGAA",

	"AAGGATTCATTCCCACGGTAACAC",
	"ACGTAACTTGGTTTGTTCCCTGAA",
	"AACCAAGACTCGCTGTGCCTAGTT",
	"GAGAGGACAAAGGTTTCAACGCTT",
	"TCCATTCCCTCCGATAGATGAAAC",
	"TCCGATTCTGCTTCTTTCTACCTG",
}

// CreateDB builds the dataset in a temp SQLite file and returns its path,
// suitable as a warehouse URL.
func CreateDB(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "mlwh.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("Failed to open fixture database: %v", err)
	}
	defer db.Close()

	if _, err := db.Exec(schemaSQL); err != nil {
		t.Fatalf("Failed to create fixture schema: %v", err)
	}
	if err := seed(db); err != nil {
		t.Fatalf("Failed to seed fixture database: %v", err)
	}
	return path
}

func seed(db *sql.DB) error {
	const (
		instrumentName = "instrument_01"
		pipelineIDLims = "Ligation"
		reqDataType    = "Basecalls and raw data"
	)

	studies := []struct {
		limsID string
		name   string
	}{
		{"study_01", "Study X"},
		{"study_02", "Study Y"},
		{"study_03", "Study Z"},
	}
	studyKeys := make(map[string]int64)
	for _, study := range studies {
		res, err := db.Exec(
			`INSERT INTO study (id_lims, id_study_lims, name) VALUES (?, ?, ?)`,
			"LIMS_01", study.limsID, study.name)
		if err != nil {
			return err
		}
		key, err := res.LastInsertId()
		if err != nil {
			return err
		}
		studyKeys[study.limsID] = key
	}

	const numSamples = 200
	sampleKeys := make([]int64, 0, numSamples)
	for i := 1; i <= numSamples; i++ {
		res, err := db.Exec(
			`INSERT INTO sample (id_lims, id_sample_lims, name) VALUES (?, ?, ?)`,
			"LIMS_01", fmt.Sprintf("sample%d", i), fmt.Sprintf("sample %d", i))
		if err != nil {
			return err
		}
		key, err := res.LastInsertId()
		if err != nil {
			return err
		}
		sampleKeys = append(sampleKeys, key)
	}

	insertFlowcell := func(sampleKey, studyKey int64, slot int, experiment, flowcellID string,
		tagIdentifier int, tagSequence string, updated time.Time) error {

		var tagSetID, tagSetName, tagSeq any
		var tagID any
		if tagIdentifier > 0 {
			tagSetID = "ONT_12"
			tagSetName = "ONT library barcodes x12"
			tagID = tagIdentifier
			tagSeq = tagSequence
		}
		_, err := db.Exec(`
			INSERT INTO oseq_flowcell (
				id_flowcell_lims, last_updated, id_sample_tmp, id_study_tmp,
				experiment_name, instrument_name, instrument_slot,
				tag_set_id_lims, tag_set_name, tag_identifier, tag_sequence,
				pipeline_id_lims, requested_data_type
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			flowcellID, updated.UTC().Format(timeLayout), sampleKey, studyKey,
			experiment, instrumentName, slot,
			tagSetID, tagSetName, tagID, tagSeq,
			pipelineIDLims, reqDataType)
		return err
	}

	// Five single-sample experiments across five slots, all under Study Y.
	// Even experiments carry the early update time, odd the late one.
	const (
		numSimpleExpts   = 5
		numInstrumentPos = 5
	)
	sampleIdx := 0
	for expt := 1; expt <= numSimpleExpts; expt++ {
		for pos := 1; pos <= numInstrumentPos; pos++ {
			updated := Late
			if expt%2 == 0 {
				updated = Early
			}
			err := insertFlowcell(
				sampleKeys[sampleIdx], studyKeys["study_02"], pos,
				fmt.Sprintf("simple_experiment_%03d", expt),
				fmt.Sprintf("flowcell %03d", pos+10),
				0, "", updated)
			if err != nil {
				return err
			}
			sampleIdx++
		}
	}

	// Three multiplexed experiments across five slots, twelve barcodes
	// each, all under Study Z. Odd experiments are late, or latest in odd
	// slots; even experiments are early.
	const numMultiplexedExpts = 3
	msampleIdx := 0
	for expt := 1; expt <= numMultiplexedExpts; expt++ {
		for pos := 1; pos <= numInstrumentPos; pos++ {
			updated := Early
			if expt%2 == 1 {
				updated = Late
				if pos%2 == 1 {
					updated = Latest
				}
			}
			for barcodeIdx, barcode := range barcodes {
				err := insertFlowcell(
					sampleKeys[msampleIdx], studyKeys["study_03"], pos,
					fmt.Sprintf("multiplexed_experiment_%03d", expt),
					fmt.Sprintf("flowcell %03d", pos+100),
					barcodeIdx+1, barcode, updated)
				if err != nil {
					return err
				}
				msampleIdx++
			}
		}
	}

	return nil
}
