package main

import (
	"context"
	"log"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-lambda-go/lambdacontext"

	"github.com/TheMichaelB/kdbxdiff/internal/config"
	"github.com/TheMichaelB/kdbxdiff/internal/events"
	"github.com/TheMichaelB/kdbxdiff/internal/lambda/handler"
)

// Global handler instance for reuse across warm starts
var h *handler.Handler

func init() {
	var err error
	h, err = handler.NewHandler(context.Background())
	if err != nil {
		log.Fatalf("Failed to initialize handler: %v", err)
	}
}

func handleRequest(ctx context.Context, event handler.Event) (handler.Response, error) {
	if lc, ok := lambdacontext.FromContext(ctx); ok {
		ctx = events.WithRequestID(ctx, lc.AwsRequestID)
	}
	return h.ProcessEvent(ctx, event)
}

func main() {
	if !config.IsLambdaEnvironment() {
		log.Println("AWS_LAMBDA_FUNCTION_NAME is not set, expecting a local Lambda emulator")
	}
	lambda.Start(handleRequest)
}
