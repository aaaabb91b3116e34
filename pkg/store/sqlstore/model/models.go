package model

// All lists every persisted model, in migration order.
func All() []interface{} {
	return []interface{}{
		&Node{},
		&Deployment{},
		&ServerLog{},
		&DeploymentLog{},
		&Notification{},
		&DeploymentAnalytics{},
		&TrialGrant{},
		&SaleEvent{},
	}
}
