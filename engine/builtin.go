package engine

import (
	"github.com/hupe1980/knnlib/distance"
	"github.com/hupe1980/knnlib/params"
)

// Engine names.
const (
	Faiss  = "faiss"
	Nmslib = "nmslib"
)

// Method names.
const (
	MethodHNSW       = "hnsw"
	MethodIVF        = "ivf"
	MethodBruteForce = "brute_force"
	EncoderFlat      = "flat"
	EncoderPQ        = "pq"
)

var faissEncoders = []Component{
	{Name: EncoderPQ, Token: "PQ", Parameters: []Parameter{
		{Name: params.KeyCodeSize, Default: 16, InDescription: true},
	}},
	{Name: EncoderFlat, Token: "Flat"},
}

// FaissEngine builds flat, HNSW and IVF indexes in .faiss files.
var FaissEngine = &Engine{
	Name:      Faiss,
	Extension: ".faiss",
	Methods: []Method{
		{
			Component: Component{Name: MethodHNSW, Token: "HNSW", Parameters: []Parameter{
				{Name: params.KeyM, Default: 16, InDescription: true},
				{Name: params.KeyEfConstruction, Default: 512},
				{Name: params.KeyEfSearch, Default: 512},
			}},
			Spaces:   []string{"l2", "innerproduct"},
			Encoders: faissEncoders,
		},
		{
			Component: Component{Name: MethodIVF, Token: "IVF", Parameters: []Parameter{
				{Name: params.KeyNCentroids, Default: 16, InDescription: true},
				{Name: params.KeyNProbes, Default: 1},
			}},
			Spaces:         []string{"l2", "innerproduct"},
			Encoders:       faissEncoders,
			CoarseQuantize: true,
			Trains:         true,
		},
		{
			Component: Component{Name: MethodBruteForce},
			Spaces:    []string{"l2", "innerproduct", "hamming", "hammingbit"},
			Encoders:  faissEncoders,
		},
	},
	spaces: map[string]distance.Metric{
		"l2":           distance.MetricL2,
		"innerproduct": distance.MetricInnerProduct,
		"hamming":      distance.MetricHamming,
		"hammingbit":   distance.MetricHamming,
	},
	negateInnerProduct: true,
}

// NmslibEngine builds HNSW graphs in .hnsw files.
var NmslibEngine = &Engine{
	Name:      Nmslib,
	Extension: ".hnsw",
	Methods: []Method{
		{
			Component: Component{Name: MethodHNSW, Token: "HNSW", Parameters: []Parameter{
				{Name: params.KeyM, Default: 16, InDescription: true},
				{Name: params.KeyEfConstruction, Default: 512},
				{Name: params.KeyEfSearch, Default: 512},
			}},
			Spaces: []string{"l2", "l1", "linf", "cosinesimil", "innerproduct"},
		},
	},
	spaces: map[string]distance.Metric{
		"l2":           distance.MetricEuclidean,
		"l1":           distance.MetricL1,
		"linf":         distance.MetricLinf,
		"cosinesimil":  distance.MetricCosine,
		"innerproduct": distance.MetricNegDot,
	},
}

func init() {
	_ = Register(FaissEngine)
	_ = Register(NmslibEngine)
}
