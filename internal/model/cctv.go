package model

// CCTV is one camera/sensor unit in the upstream registry
type CCTV struct {
	ID        string `json:"_id"`
	Name      string `json:"name"`
	RTSPURL   string `json:"rtsp_url,omitempty"`
	IsActive  bool   `json:"is_active"`
	CreatedAt string `json:"created_at,omitempty"`
}

// BedMapping pairs a bed with the camera that watches it. The order of
// mappings within a camera is stable and defines the patient ordinal.
type BedMapping struct {
	ID     string `json:"_id"`
	BedID  string `json:"bed_id"`
	CCTVID string `json:"cctv_id"`
}

// CCTVCreateRequest is the manage-page payload for registering a camera
type CCTVCreateRequest struct {
	Name    string `json:"name"`
	RTSPURL string `json:"rtsp_url"`
}

// BedAssignRequest assigns a patient name to a bed
type BedAssignRequest struct {
	PatientName string `json:"patient_name"`
}
