package workflow

import (
	"go.temporal.io/sdk/testsuite"

	"github.com/edvin/sslshop/internal/activity"
)

// registerActivities registers the activity structs with the test
// environment. Activities are mocked with OnActivity, but the framework
// still needs their signatures to decode parameters and results.
func registerActivities(env *testsuite.TestWorkflowEnvironment) {
	env.RegisterActivity(&activity.Orders{})
	env.RegisterActivity(&activity.Expiry{})
	env.RegisterActivity(&activity.Renewal{})
}
