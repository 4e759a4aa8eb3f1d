package checkpoint

import (
	"encoding/gob"
	"errors"
	"fmt"
	"os"

	"gonum.org/v1/gonum/mat"
)

// trajectoryFile is the gob image of a snapshot sequence.
type trajectoryFile struct {
	Version int
	Rows    int
	Cols    int
	Data    [][]float64
}

// SaveTrajectory writes the sequence of feature-matrix snapshots collected
// during training as one gob blob.
func SaveTrajectory(path string, phis []*mat.Dense) error {
	if len(phis) == 0 {
		return errors.New("checkpoint: empty trajectory")
	}
	r, c := phis[0].Dims()
	tf := trajectoryFile{
		Version: stateVersion,
		Rows:    r,
		Cols:    c,
		Data:    make([][]float64, 0, len(phis)),
	}
	for i, p := range phis {
		pr, pc := p.Dims()
		if pr != r || pc != c {
			return fmt.Errorf("checkpoint: snapshot %d is %dx%d, want %dx%d", i, pr, pc, r, c)
		}
		tf.Data = append(tf.Data, append([]float64(nil), p.RawMatrix().Data...))
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	if err := gob.NewEncoder(f).Encode(tf); err != nil {
		f.Close()
		return fmt.Errorf("checkpoint: encode: %w", err)
	}
	return f.Close()
}

// LoadTrajectory reads a snapshot sequence back.
func LoadTrajectory(path string) ([]*mat.Dense, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var tf trajectoryFile
	if err := gob.NewDecoder(f).Decode(&tf); err != nil {
		return nil, fmt.Errorf("checkpoint: decode: %w", err)
	}
	if tf.Version != stateVersion {
		return nil, fmt.Errorf("checkpoint: unsupported version %d", tf.Version)
	}
	phis := make([]*mat.Dense, 0, len(tf.Data))
	for i, data := range tf.Data {
		if len(data) != tf.Rows*tf.Cols {
			return nil, fmt.Errorf("checkpoint: snapshot %d holds %d values, want %d", i, len(data), tf.Rows*tf.Cols)
		}
		phis = append(phis, mat.NewDense(tf.Rows, tf.Cols, data))
	}
	return phis, nil
}
