package models

// ExperimentSlot identifies one sequencing run in the tracking database:
// the experiment name given to the instrument and the 1-based slot the
// flowcell occupied.
type ExperimentSlot struct {
	ExperimentName string `json:"experiment_name"`
	InstrumentSlot int    `json:"instrument_slot"`
}

// Sample is the tracking database's view of a sequenced sample. String
// fields are empty when the warehouse column is null; metadata builders
// skip empty values.
type Sample struct {
	SangerID         string `json:"sanger_id"`
	LimsID           string `json:"lims_id"`
	Name             string `json:"name"`
	Accession        string `json:"accession"`
	DonorID          string `json:"donor_id"`
	SupplierName     string `json:"supplier_name"`
	ConsentWithdrawn bool   `json:"consent_withdrawn"`
}

// Study is the tracking database's view of the study a sample belongs to.
type Study struct {
	LimsID    string `json:"lims_id"`
	Name      string `json:"name"`
	Accession string `json:"accession"`
}

// Flowcell is one tracking row tying a library on a flowcell to its sample
// and study. Multiplexed runs have one row per barcode.
type Flowcell struct {
	ExperimentName string `json:"experiment_name"`
	InstrumentSlot int    `json:"instrument_slot"`
	TagIdentifier  int    `json:"tag_identifier"` // 1-based, 0 when unmultiplexed
	TagSequence    string `json:"tag_sequence"`
	Sample         Sample `json:"sample"`
	Study          Study  `json:"study"`
}

// Multiplexed reports whether the row carries a barcode tag.
func (f *Flowcell) Multiplexed() bool {
	return f.TagIdentifier > 0
}
