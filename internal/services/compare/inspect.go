package compare

import (
	"github.com/TheMichaelB/kdbxdiff/internal/kdbx"
	"github.com/TheMichaelB/kdbxdiff/internal/models"
)

// Inspection is the header metadata of a container read without any key.
type Inspection struct {
	models.ContainerInfo

	KDFRounds      uint64 `json:"kdf_rounds,omitempty"`
	KDFIterations  uint64 `json:"kdf_iterations,omitempty"`
	KDFMemory      uint64 `json:"kdf_memory,omitempty"`
	KDFParallelism uint32 `json:"kdf_parallelism,omitempty"`
}

// Inspect parses the outer header of data. Nothing is decrypted.
func Inspect(name string, data []byte) (*Inspection, error) {
	h, _, err := kdbx.Parse(data)
	if err != nil {
		return nil, &models.FileError{Name: name, Err: err}
	}
	return &Inspection{
		ContainerInfo:  containerInfo(Input{Name: name, Data: data}, h),
		KDFRounds:      h.KDF.Rounds,
		KDFIterations:  h.KDF.Iterations,
		KDFMemory:      h.KDF.Memory,
		KDFParallelism: h.KDF.Parallelism,
	}, nil
}
