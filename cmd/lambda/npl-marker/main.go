// NPL Marker Lambda entry point
package main

import (
	"context"

	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/zap"

	"microlend-engine/internal/handlers"
	"microlend-engine/internal/utils"
)

func main() {
	defer utils.Sync()

	handler, err := handlers.NewNPLMarkerHandler(context.Background())
	if err != nil {
		utils.GetLogger().Fatal("Failed to create handler", zap.Error(err))
	}
	defer handler.Close()

	lambda.Start(handler.Handle)
}
