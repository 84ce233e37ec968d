package handler

const (
	errInternalServer  = "Internal server error"
	errJobNotFound     = "Job not found"
	errJobInactive     = "Job is not active"
	errInvalidSchedule = "Invalid schedule configuration"
	errScriptNotFound  = "Script not found in scripts directory"
)
