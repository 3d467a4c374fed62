package mongodb

import (
	"context"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestProperty_OperationContextNeverExtendsDeadline(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 30
	properties := gopter.NewProperties(params)

	properties.Property("operation deadline is the earlier of caller and adapter timeout", prop.ForAll(
		func(adapterMillis, callerMillis int) bool {
			a := &Adapter{timeout: time.Duration(adapterMillis) * time.Millisecond}
			parent, cancelParent := context.WithTimeout(context.Background(), time.Duration(callerMillis)*time.Millisecond)
			defer cancelParent()
			parentDeadline, _ := parent.Deadline()

			ctx, cancel := a.OperationContext(parent)
			defer cancel()
			deadline, ok := ctx.Deadline()
			return ok && !deadline.After(parentDeadline)
		},
		gen.IntRange(0, 5000),
		gen.IntRange(1, 5000),
	))

	properties.Property("a caller without deadline gets the adapter timeout", prop.ForAll(
		func(adapterMillis int) bool {
			a := &Adapter{timeout: time.Duration(adapterMillis) * time.Millisecond}
			before := time.Now()
			ctx, cancel := a.OperationContext(context.Background())
			defer cancel()
			deadline, ok := ctx.Deadline()
			return ok && !deadline.Before(before.Add(a.timeout))
		},
		gen.IntRange(1, 5000),
	))

	properties.TestingRun(t)
}
