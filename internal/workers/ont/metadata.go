package ont

import (
	"strconv"

	"github.com/ternarybob/workbot/internal/models"
)

// Namespace qualifies the instrument tags a sequencing run carries in the
// archive. These are primary metadata: written once when the run is
// uploaded and used afterwards to locate it.
const Namespace = "ont"

const (
	AttrExperimentName = "experiment_name"
	AttrInstrumentSlot = "instrument_slot"
)

// RunAVUs returns the two instrument tags identifying a run.
func RunAVUs(experimentName string, instrumentSlot int) []models.AVU {
	return []models.AVU{
		models.NewAVU(AttrExperimentName, experimentName).WithNamespace(Namespace),
		models.NewAVU(AttrInstrumentSlot, strconv.Itoa(instrumentSlot)).WithNamespace(Namespace),
	}
}
