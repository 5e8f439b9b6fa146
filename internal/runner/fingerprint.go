package runner

import (
	"encoding/json"
	"strconv"

	"aqpeval/internal/config"
	"aqpeval/internal/estimate"
	"aqpeval/internal/query"

	"github.com/cespare/xxhash/v2"
)

type fingerprintInput struct {
	Descriptor query.Descriptor `json:"descriptor"`
	Mode       string           `json:"mode"`
	Operation  string           `json:"operation"`
	Seed       int64            `json:"seed"`
	Tables     []tableInput     `json:"tables"`
}

type tableInput struct {
	Name       string   `json:"name"`
	Data       string   `json:"data"`
	SampleRate float64  `json:"sample_rate"`
	Sampler    string   `json:"sampler"`
	Files      []string `json:"sample_files,omitempty"`
}

// fingerprint identifies what a stored round was computed from, so a resumed
// run never mixes rounds of different queries or samplers.
func fingerprint(d query.Descriptor, mode estimate.Mode, cfg config.Query, seed int64) string {
	in := fingerprintInput{Descriptor: d, Mode: mode.String(), Operation: cfg.Operation.String(), Seed: seed}
	for _, tbl := range cfg.Tables {
		in.Tables = append(in.Tables, tableInput{
			Name:       tbl.Name,
			Data:       tbl.Data,
			SampleRate: tbl.SampleRate,
			Sampler:    tbl.Sampler.String(),
			Files:      tbl.SampleFiles,
		})
	}
	raw, err := json.Marshal(in)
	if err != nil {
		// Every field is a plain value; Marshal cannot fail.
		panic(err)
	}
	return strconv.FormatUint(xxhash.Sum64(raw), 16)
}
