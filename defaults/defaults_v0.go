package defaults

import (
	"github.com/sahib/config"
)

// DefaultsV0 is the default config validation for ftserve
var DefaultsV0 = config.DefaultMapping{
	"server": config.DefaultMapping{
		"bind": config.DefaultEntry{
			Default:      "",
			NeedsRestart: true,
			Docs:         "Host to listen on for control connections. Empty means all interfaces.",
		},
		"root": config.DefaultEntry{
			Default:      ".",
			NeedsRestart: true,
			Docs:         "Directory that is listed and whose files are served.",
		},
		"max_connections": config.DefaultEntry{
			Default:      10,
			NeedsRestart: true,
			Docs:         "How many control connections are handled at the same time.",
			Validator:    config.IntRangeValidator(1, 10000),
		},
		"accepts_per_second": config.DefaultEntry{
			Default:      0.0,
			NeedsRestart: true,
			Docs:         "How many control connections to accept per second at max. 0 disables the throttle.",
			Validator:    config.FloatRangeValidator(0, 1e6),
		},
		"peer_requests_per_hour": config.DefaultEntry{
			Default:      0,
			NeedsRestart: true,
			Docs:         "How many requests a single peer may send per hour. 0 disables the limit.",
			Validator:    config.IntRangeValidator(0, 1e9),
		},
		"read_timeout": config.DefaultEntry{
			Default:      "30s",
			NeedsRestart: false,
			Docs:         "How long to wait for the control message.",
			Validator:    durationValidator(),
		},
		"handler_timeout": config.DefaultEntry{
			Default:      "5m",
			NeedsRestart: false,
			Docs:         "Deadline for handling a single request from accept to acknowledgement.",
			Validator:    durationValidator(),
		},
		"dispatch_delay": config.DefaultEntry{
			Default:      "1s",
			NeedsRestart: false,
			Docs:         "Pause before connecting back, giving the peer time to listen on its data port.",
			Validator:    durationValidator(),
		},
	},
	"data": config.DefaultMapping{
		"connect_timeout": config.DefaultEntry{
			Default:      "10s",
			NeedsRestart: false,
			Docs:         "Timeout for resolving and connecting to the data port of a peer.",
			Validator:    durationValidator(),
		},
		"write_timeout": config.DefaultEntry{
			Default:      "60s",
			NeedsRestart: false,
			Docs:         "Timeout for writing the payload to a peer.",
			Validator:    durationValidator(),
		},
		"max_file_size": config.DefaultEntry{
			Default:      "4 GiB",
			NeedsRestart: false,
			Docs:         "Largest file that is served. Bigger files are answered with FILE NOT FOUND.",
			Validator:    SizeValidator(),
		},
	},
	"listing": config.DefaultMapping{
		"dot_entries": config.DefaultEntry{
			Default:      false,
			NeedsRestart: false,
			Docs:         "Put »..« and ».« in front of every directory listing.",
		},
	},
	"log": config.DefaultMapping{
		"level": config.DefaultEntry{
			Default:      "info",
			NeedsRestart: false,
			Docs:         "Minimum severity that is logged.",
			Validator:    config.EnumValidator("debug", "info", "warning", "error"),
		},
		"path": config.DefaultEntry{
			Default:      "stderr",
			NeedsRestart: true,
			Docs:         "Where to log to: »stdout«, »stderr« or a file path.",
		},
	},
}
