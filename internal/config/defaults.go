package config

const (
	defaultOrientation     = "LPI"
	defaultSliceOrder      = "down"
	defaultSliceDirection  = 3
	defaultAPPhaseEncoding = "j-"
	defaultQCMemoryGB      = 6
	defaultValidatorImage  = "bids/validator"
	defaultMRIQCImage      = "nipreps/mriqc:latest"
	defaultHeudiconvImage  = "nipy/heudiconv:latest"
	defaultLogLevel        = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Binaries: Binaries{
			Dcm2niix:   "dcm2niix",
			Heudiconv:  "heudiconv",
			Unzip:      "unzip",
			FSLSwapDim: "fslswapdim",
			SliceTimer: "slicetimer",
			Docker:     "docker",
		},
		Images: Images{
			Validator: defaultValidatorImage,
			MRIQC:     defaultMRIQCImage,
			Heudiconv: defaultHeudiconvImage,
		},
		Logging: Logging{
			Level: defaultLogLevel,
		},
		Acquisition: Acquisition{
			Orientation:     defaultOrientation,
			SliceOrder:      defaultSliceOrder,
			SliceDirection:  defaultSliceDirection,
			APPhaseEncoding: defaultAPPhaseEncoding,
			QCMemoryGB:      defaultQCMemoryGB,
		},
	}
}
