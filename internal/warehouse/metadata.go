package warehouse

import (
	"strconv"
	"time"

	"github.com/ternarybob/workbot/internal/models"
)

// Attribute names attached to archive items from warehouse data.
const (
	AttrSampleID               = "sample_id"
	AttrSampleName             = "sample"
	AttrSampleAccessionNumber  = "sample_accession_number"
	AttrSampleDonorID          = "sample_donor_id"
	AttrSampleSupplierName     = "sample_supplier_name"
	AttrSampleConsentWithdrawn = "sample_consent_withdrawn"

	AttrStudyID              = "study_id"
	AttrStudyName            = "study_name"
	AttrStudyAccessionNumber = "study_accession_number"

	// AttrTagIndex carries the barcode tag index on a de-plexed
	// sub-collection. It has no namespace.
	AttrTagIndex = "tag_index"
)

// Dublin Core terms recording provenance on collections the pipeline
// creates.
const (
	DublinCoreNamespace = "dcterms"

	AttrCreated  = "created"
	AttrCreator  = "creator"
	AttrModified = "modified"
)

// MakeSampleMetadata builds the AVUs describing a sample. Attributes whose
// warehouse value is null are skipped; consent withdrawal is recorded only
// when it has happened.
func MakeSampleMetadata(sample models.Sample) []models.AVU {
	avus := appendIfValue(nil, AttrSampleID, sample.SangerID)
	avus = appendIfValue(avus, AttrSampleName, sample.Name)
	avus = appendIfValue(avus, AttrSampleAccessionNumber, sample.Accession)
	avus = appendIfValue(avus, AttrSampleDonorID, sample.DonorID)
	avus = appendIfValue(avus, AttrSampleSupplierName, sample.SupplierName)
	if sample.ConsentWithdrawn {
		avus = append(avus, models.NewAVU(AttrSampleConsentWithdrawn, "1"))
	}
	return avus
}

// MakeStudyMetadata builds the AVUs describing a study, skipping null
// values.
func MakeStudyMetadata(study models.Study) []models.AVU {
	avus := appendIfValue(nil, AttrStudyID, study.LimsID)
	avus = appendIfValue(avus, AttrStudyName, study.Name)
	avus = appendIfValue(avus, AttrStudyAccessionNumber, study.Accession)
	return avus
}

// MakeTagIndexMetadata builds the barcode tag index AVU.
func MakeTagIndexMetadata(tagIdentifier int) models.AVU {
	return models.NewAVU(AttrTagIndex, strconv.Itoa(tagIdentifier))
}

// MakeCreationMetadata records who created an item and when.
func MakeCreationMetadata(creator string, created time.Time) []models.AVU {
	return []models.AVU{
		models.NewAVU(AttrCreator, creator).WithNamespace(DublinCoreNamespace),
		models.NewAVU(AttrCreated, created.UTC().Format(time.RFC3339)).WithNamespace(DublinCoreNamespace),
	}
}

// MakeModificationMetadata records when an item was last modified.
func MakeModificationMetadata(modified time.Time) []models.AVU {
	return []models.AVU{
		models.NewAVU(AttrModified, modified.UTC().Format(time.RFC3339)).WithNamespace(DublinCoreNamespace),
	}
}

func appendIfValue(avus []models.AVU, attribute, value string) []models.AVU {
	if value == "" {
		return avus
	}
	return append(avus, models.NewAVU(attribute, value))
}
