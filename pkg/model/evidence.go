package model

const (
	PayloadFilename    = "filename"
	PayloadDescription = "description"
	PayloadType        = "type"

	EvidenceTypePhoto = "photo"
)

// EvidencePoint is a captioned image in the multimodal collection
type EvidencePoint struct {
	ID          string
	Vector      []float32
	Filename    string
	Description string
	Type        string
}

// Point converts the evidence to a generic vector store point
func (e *EvidencePoint) Point() *Point {
	return &Point{
		ID:     e.ID,
		Vector: e.Vector,
		Payload: Payload{
			PayloadFilename:    e.Filename,
			PayloadDescription: e.Description,
			PayloadType:        e.Type,
		},
	}
}

// EvidenceFromPayload restores evidence metadata from a query hit. Vector is not populated.
func EvidenceFromPayload(id string, p Payload) *EvidencePoint {
	return &EvidencePoint{
		ID:          id,
		Filename:    p.String(PayloadFilename),
		Description: p.String(PayloadDescription),
		Type:        p.String(PayloadType),
	}
}
