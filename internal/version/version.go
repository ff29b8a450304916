package version

import (
	"fmt"
	"runtime/debug"

	"github.com/larsks/gobot/tools"
)

var (
	Version string = "dev"
)

// Info describes the running binary.
type Info struct {
	Program  string
	Version  string
	OS       string
	Arch     string
	Revision string
	Time     string
}

func Get(program string) Info {
	info := Info{Program: program, Version: Version}

	if bi, ok := debug.ReadBuildInfo(); ok {
		bim := tools.BuildInfoMap(bi)
		info.OS = bim["GOOS"]
		info.Arch = bim["GOARCH"]
		if vcs, ok := bim["vcs"]; ok && vcs == "git" {
			info.Revision = bim["vcs.revision"]
			if len(info.Revision) > 10 {
				info.Revision = info.Revision[:10]
			}
			info.Time = bim["vcs.time"]
		}
	}

	return info
}

func (i Info) String() string {
	vs := fmt.Sprintf("%s version %s", i.Program, i.Version)
	if i.OS != "" {
		vs = fmt.Sprintf("%s %s/%s", vs, i.OS, i.Arch)
	}
	if i.Revision != "" {
		vs = fmt.Sprintf("%s rev %s on %s", vs, i.Revision, i.Time)
	}
	return vs
}

func GetVersion(program string) string {
	return Get(program).String()
}
