package main

import (
	"errors"
	"io"
	"os"

	"github.com/spf13/cobra"
	lib "github.com/spf13/viper"

	amqp "go.wirebox.dev/amqp"
	"go.wirebox.dev/amqp/cli"
	cviper "go.wirebox.dev/amqp/cli/viper"
)

var publishParams = []cli.Param{
	{Name: "exchange", Usage: "destination exchange, empty for the default exchange", FlagKey: "publish.exchange", ByDefault: ""},
	{Name: "routing-key", Usage: "routing key / queue name", FlagKey: "publish.routing_key", ByDefault: "", Required: true},
	{Name: "body", Usage: "message body; reads from stdin when omitted", FlagKey: "publish.body", ByDefault: ""},
	{Name: "persistent", Usage: "mark the message as persistent", FlagKey: "publish.persistent", ByDefault: false},
	{Name: "confirm", Usage: "wait for a publisher confirm before returning", FlagKey: "publish.confirm", ByDefault: true},
}

func newPublishCmd(vp *lib.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish a single message",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPublish(vp)
		},
	}
	if err := cli.SetupCommandParams(cmd, publishParams); err != nil {
		panic(err)
	}
	if err := cviper.BindFlags(cmd, publishParams, vp); err != nil {
		panic(err)
	}
	return cmd
}

func runPublish(vp *lib.Viper) error {
	topology, err := topologyFrom(vp)
	if err != nil {
		return err
	}
	log := loggerFrom(vp)

	pub, err := amqp.NewPublisher(vp.GetString("url"), amqp.WithLogger(log), amqp.WithTopology(topology))
	if err != nil {
		return err
	}
	defer func() { _ = pub.Close() }()

	select {
	case <-pub.Ready():
	case <-pub.Pause():
		return errors.New("publisher never became ready")
	}

	body := []byte(vp.GetString("publish.body"))
	if len(body) == 0 {
		raw, err := io.ReadAll(os.Stdin)
		if err != nil {
			return err
		}
		body = raw
	}

	msg := amqp.Message{Body: body}
	opts := amqp.MessageOptions{
		Exchange:   vp.GetString("publish.exchange"),
		RoutingKey: vp.GetString("publish.routing_key"),
		Persistent: vp.GetBool("publish.persistent"),
	}

	if vp.GetBool("publish.confirm") {
		ok, err := pub.Push(msg, opts)
		if err != nil {
			return err
		}
		if !ok {
			return errors.New("message was nacked by the broker")
		}
		return nil
	}
	return pub.UnsafePush(msg, opts)
}
