package cli

// This file contains the flags of the run command and their conversion
// into a session configuration.

import (
	"github.com/urfave/cli/v2"

	"github.com/pwrtest/pwrtest/cli/ssh"
	"github.com/pwrtest/pwrtest/model"
	"github.com/pwrtest/pwrtest/publisher"
	"github.com/pwrtest/pwrtest/servo"
	"github.com/pwrtest/pwrtest/testrun"
)

func runFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:     "charge_from",
			Aliases:  []string{"f"},
			Usage:    "Charge the DUT when its battery is below this percentage (0-100)",
			Required: true,
		},
		&cli.IntFlag{
			Name:     "charge_to",
			Aliases:  []string{"t"},
			Usage:    "Stop charging once the battery reaches this percentage (0-100)",
			Required: true,
		},
		&cli.StringFlag{
			Name:     "autotest_dir",
			Aliases:  []string{"a"},
			Usage:    "Autotest checkout passed to the test tool",
			Required: true,
		},
		&cli.StringFlag{
			Name:     "board",
			Usage:    "Board name of the DUT",
			Required: true,
		},
		&cli.StringFlag{
			Name:     "ip",
			Usage:    "IP address of the DUT",
			Required: true,
		},
		&cli.StringFlag{
			Name:     "out_dir",
			Aliases:  []string{"o"},
			Usage:    "Directory receiving one output file per test",
			Required: true,
		},
		&cli.StringFlag{
			Name:     "tests",
			Usage:    "Comma separated list of tests to run, in order",
			Required: true,
		},
		&cli.StringFlag{
			Name:  "dut-control",
			Usage: "Servo control tool",
			Value: servo.DefaultBinary,
		},
		&cli.StringFlag{
			Name:  "test-that",
			Usage: "Test tool",
			Value: testrun.DefaultBinary,
		},
		&cli.StringFlag{
			Name:  "servo-host",
			Usage: "SSH host running servod, the control tool is run there instead of locally",
		},
		&cli.StringFlag{
			Name:  "ssh-identity",
			Usage: "Identity file (private key) for --servo-host",
		},
		&cli.StringFlag{
			Name:  "ssh-known-hosts",
			Usage: "Known hosts file used to verify --servo-host",
		},
		&cli.StringFlag{
			Name:  "ssh-proxy-command",
			Usage: "ProxyCommand used to reach --servo-host (e.g. through a jump host)",
		},
		&cli.StringSliceFlag{
			Name:  "ssh-option",
			Usage: "Extra ssh option in Key=Value form, may be repeated",
		},
		&cli.StringFlag{
			Name:  "ssh",
			Usage: "ssh executable used to reach --servo-host",
			Value: "ssh",
		},
		&cli.BoolFlag{
			Name:  "echo",
			Usage: "Print the test tool output while it runs",
		},
		&cli.BoolFlag{
			Name:  "report-battery",
			Usage: "Print the battery level after every test",
		},
		&cli.BoolFlag{
			Name:  "record-history",
			Usage: "Record a session manifest below <out_dir>/.pwrtest/history",
		},
		&cli.StringFlag{
			Name:    "mqtt-broker",
			Usage:   "MQTT broker URL (e.g. tcp://broker:1883), enables status publishing",
			EnvVars: []string{"PWRTEST_MQTT_BROKER"},
		},
		&cli.StringFlag{
			Name:    "mqtt-client-id",
			Usage:   "MQTT client ID (default: pwrtest-<board>)",
			EnvVars: []string{"PWRTEST_MQTT_CLIENT_ID"},
		},
		&cli.StringFlag{
			Name:    "mqtt-username",
			Usage:   "MQTT username",
			EnvVars: []string{"PWRTEST_MQTT_USERNAME"},
		},
		&cli.StringFlag{
			Name:    "mqtt-password",
			Usage:   "MQTT password",
			EnvVars: []string{"PWRTEST_MQTT_PASSWORD"},
		},
		&cli.StringFlag{
			Name:  "mqtt-topic-prefix",
			Usage: "MQTT topic prefix",
			Value: publisher.DefaultTopicPrefix,
		},
		&cli.IntFlag{
			Name:  "mqtt-qos",
			Usage: "MQTT QoS level (0, 1 or 2)",
		},
		&cli.StringFlag{
			Name:    "mqtt-ca-cert",
			Usage:   "CA certificate for TLS connections to the broker",
			EnvVars: []string{"PWRTEST_MQTT_CA_CERT"},
		},
	}
}

func configFromFlags(ctx *cli.Context) model.Config {
	return model.Config{
		Tests:       model.ParseTests(ctx.String("tests")),
		ChargeFrom:  ctx.Int("charge_from"),
		ChargeTo:    ctx.Int("charge_to"),
		Board:       ctx.String("board"),
		DUTAddress:  ctx.String("ip"),
		AutotestDir: ctx.String("autotest_dir"),
		OutDir:      ctx.String("out_dir"),
	}
}

func sshOptionsFromFlags(ctx *cli.Context) []ssh.SSHOption {
	var opts []ssh.SSHOption
	if binary := ctx.String("ssh"); binary != "" {
		opts = append(opts, ssh.WithBinary(binary))
	}
	if identity := ctx.String("ssh-identity"); identity != "" {
		opts = append(opts, ssh.WithIdentityFile(identity))
	}
	if knownHosts := ctx.String("ssh-known-hosts"); knownHosts != "" {
		opts = append(opts, ssh.WithKnownHostsFile(knownHosts))
	}
	if proxy := ctx.String("ssh-proxy-command"); proxy != "" {
		opts = append(opts, ssh.WithProxyCommand(proxy))
	}
	if extra := ctx.StringSlice("ssh-option"); len(extra) > 0 {
		opts = append(opts, ssh.WithExtraOptions(extra...))
	}
	return opts
}

func mqttConfigFromFlags(ctx *cli.Context, board string) (publisher.Config, error) {
	qos := ctx.Int("mqtt-qos")
	if qos < 0 || qos > 2 {
		return publisher.Config{}, &model.FieldError{Field: "mqtt-qos", Msg: "must be 0, 1 or 2"}
	}
	clientID := ctx.String("mqtt-client-id")
	if clientID == "" {
		clientID = "pwrtest-" + board
	}
	return publisher.Config{
		Broker:    ctx.String("mqtt-broker"),
		ClientID:  clientID,
		Username:  ctx.String("mqtt-username"),
		Password:  ctx.String("mqtt-password"),
		QOS:       byte(qos),
		TLSCACert: ctx.String("mqtt-ca-cert"),
	}, nil
}
