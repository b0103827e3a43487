// SPDX-License-Identifier: AGPL-3.0-only

package sourcefeed

import (
	"testing"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
