package main

import (
	"log/slog"
	"os"

	"gatekeeper/config"
	"gatekeeper/internal/delivery/edge"
	"gatekeeper/internal/infra/auth"
	logs "gatekeeper/internal/infra/log"
	"gatekeeper/internal/usecase/impl"

	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/fx"
)

func main() {
	var authorizer *edge.Authorizer

	app := fx.New(
		fx.NopLogger,
		fx.Provide(
			config.New,
			logs.New,
			auth.NewJWTService,
			impl.NewAccessService,
			edge.NewAuthorizer,
		),
		fx.Populate(&authorizer),
	)
	if err := app.Err(); err != nil {
		slog.Error("Failed to build authorizer", slog.Any("error", err))
		os.Exit(1)
	}

	lambda.Start(authorizer.Handle)
}
