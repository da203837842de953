package vm

import (
	"github.com/tliron/commonlog"
)

var (
	vmLog = commonlog.GetLogger("stvm.vm")
	gcLog = commonlog.GetLogger("stvm.gc")
)
