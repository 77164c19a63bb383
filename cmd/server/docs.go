package main

//go:generate swag init -g cmd/server/main.go -o docs

// @title           Experiment Service API
// @version         0.1.0
// @description     Experiments, runs, capture sessions, sensors, telemetry and webhooks.
// @host            localhost:8080
// @BasePath        /
// @schemes         http
