package encoders

// Family identifies an encoder implementation family. Hardware families
// map to vendor acceleration blocks; software is the CPU fallback.
type Family string

// Encoder families in the order they appear in platform priority lists.
const (
	FamilyNVENC        Family = "nvenc"
	FamilyQSV          Family = "qsv"
	FamilyAMF          Family = "amf"
	FamilyVAAPI        Family = "vaapi"
	FamilyVideoToolbox Family = "videotoolbox"
	FamilySoftware     Family = "software"
)

// Candidate is a concrete H.264 encoder for a family.
type Candidate struct {
	Family      Family `json:"family"`
	Name        string `json:"name"`
	Hardware    bool   `json:"hardware"`
	Description string `json:"description"`

	// Device is the node the encoder needs, filled during detection.
	// Only VAAPI uses one.
	Device string `json:"device,omitempty"`
}

// candidateTable maps each family to its H.264 encoder.
var candidateTable = map[Family]Candidate{
	FamilyNVENC: {
		Family:      FamilyNVENC,
		Name:        "h264_nvenc",
		Hardware:    true,
		Description: "NVIDIA NVENC - Hardware acceleration on NVIDIA GPUs",
	},
	FamilyQSV: {
		Family:      FamilyQSV,
		Name:        "h264_qsv",
		Hardware:    true,
		Description: "Intel Quick Sync Video - Hardware acceleration on Intel GPUs",
	},
	FamilyAMF: {
		Family:      FamilyAMF,
		Name:        "h264_amf",
		Hardware:    true,
		Description: "AMD AMF - Hardware acceleration on AMD GPUs",
	},
	FamilyVAAPI: {
		Family:      FamilyVAAPI,
		Name:        "h264_vaapi",
		Hardware:    true,
		Description: "VAAPI (Video Acceleration API) - Intel/AMD hardware acceleration on Linux",
	},
	FamilyVideoToolbox: {
		Family:      FamilyVideoToolbox,
		Name:        "h264_videotoolbox",
		Hardware:    true,
		Description: "Apple VideoToolbox - Hardware acceleration on macOS",
	},
	FamilySoftware: {
		Family:      FamilySoftware,
		Name:        "libx264",
		Hardware:    false,
		Description: "x264 - Software encoding, always available",
	},
}

// PriorityFor returns the encoder families probed on a platform, best
// first. The software family always closes the list.
func PriorityFor(goos string) []Family {
	switch goos {
	case "linux":
		return []Family{FamilyNVENC, FamilyQSV, FamilyAMF, FamilyVAAPI, FamilySoftware}
	case "windows":
		return []Family{FamilyNVENC, FamilyQSV, FamilyAMF, FamilySoftware}
	case "darwin":
		return []Family{FamilyVideoToolbox, FamilySoftware}
	default:
		return []Family{FamilySoftware}
	}
}

// CandidateFor returns the candidate encoder for a family.
func CandidateFor(f Family) (Candidate, bool) {
	c, ok := candidateTable[f]
	return c, ok
}
