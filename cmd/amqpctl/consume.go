package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	lib "github.com/spf13/viper"

	amqp "go.wirebox.dev/amqp"
	"go.wirebox.dev/amqp/cli"
	cviper "go.wirebox.dev/amqp/cli/viper"
)

var consumeParams = []cli.Param{
	{Name: "queue", Usage: "queue to consume from", FlagKey: "consume.queue", ByDefault: "", Required: true},
	{Name: "auto-ack", Usage: "let the broker auto-acknowledge deliveries", FlagKey: "consume.auto_ack", ByDefault: false},
}

func newConsumeCmd(vp *lib.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "consume",
		Short: "Tail a queue, printing each delivery body to stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConsume(vp)
		},
	}
	if err := cli.SetupCommandParams(cmd, consumeParams); err != nil {
		panic(err)
	}
	if err := cviper.BindFlags(cmd, consumeParams, vp); err != nil {
		panic(err)
	}
	return cmd
}

func runConsume(vp *lib.Viper) error {
	topology, err := topologyFrom(vp)
	if err != nil {
		return err
	}
	log := loggerFrom(vp)

	con, err := amqp.NewConsumer(vp.GetString("url"), amqp.WithLogger(log), amqp.WithTopology(topology))
	if err != nil {
		return err
	}
	defer func() { _ = con.Close() }()

	<-con.Ready()

	autoAck := vp.GetBool("consume.auto_ack")
	deliveries, _, err := con.Subscribe(amqp.SubscribeOptions{
		Queue:   vp.GetString("consume.queue"),
		AutoAck: autoAck,
	})
	if err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	for {
		select {
		case <-sigCh:
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			fmt.Println(string(d.Body))
			if !autoAck {
				if err := d.Ack(false); err != nil {
					log.WithField("error", err.Error()).Warning("failed to ack delivery")
				}
			}
		}
	}
}
