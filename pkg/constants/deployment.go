package constants

// Deployment status constants
type DeploymentStatus string

const (
	DeploymentStatusUploaded   DeploymentStatus = "Uploaded"   // Artifact stored, never started
	DeploymentStatusRunning    DeploymentStatus = "Running"    // Process alive and placed on a node
	DeploymentStatusRestarting DeploymentStatus = "Restarting" // Crash detected, auto-restart pending
	DeploymentStatusStopped    DeploymentStatus = "Stopped"    // Not running
)

func (s DeploymentStatus) String() string {
	return string(s)
}

// Node status constants
type NodeStatus string

const (
	NodeStatusActive   NodeStatus = "active"
	NodeStatusInactive NodeStatus = "inactive"
)

func (s NodeStatus) String() string {
	return string(s)
}
