package constants

// Server event kinds (server_logs.event)
const (
	EventDeploy        = "DEPLOY"
	EventStop          = "STOP"
	EventCrash         = "CRASH"
	EventRecovery      = "RECOVERY"
	EventScriptBackup  = "SCRIPT_BACKUP"
	EventStoreSnapshot = "STORE_SNAPSHOT"
	EventTrialExpired  = "TRIAL_EXPIRED"
	EventSaleRecorded  = "SALE_RECORDED"
)

// Deployment event types (deployment_logs.log_type)
const (
	DeploymentLogDeploySuccess      = "DEPLOY_SUCCESS"
	DeploymentLogDeployFailed       = "DEPLOY_FAILED"
	DeploymentLogAdopted            = "ADOPTED"
	DeploymentLogStopped            = "STOPPED"
	DeploymentLogAutoRestart        = "AUTO_RESTART"
	DeploymentLogAutoRestartSuccess = "AUTO_RESTART_SUCCESS"
	DeploymentLogAutoRestartFailed  = "AUTO_RESTART_FAILED"
	DeploymentLogCrashNoRestart     = "CRASH_NO_RESTART"
	DeploymentLogSelfHealed         = "SELF_HEALED"
	DeploymentLogTestRun            = "TEST_RUN"
)
