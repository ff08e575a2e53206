// Copyright 2025 The Zen Pipeline Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package kubernetes

import (
	"os"

	sdklog "github.com/kube-zen/zen-sdk/pkg/logging"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

var setupLogger = sdklog.NewLogger("zen-pipeline-kubernetes")

// Clients holds the Kubernetes client interfaces the pipeline needs
type Clients struct {
	Dynamic dynamic.Interface
	Config  *rest.Config
}

// NewClients creates clients from in-cluster config, falling back to the
// kubeconfig named by KUBECONFIG for local runs
func NewClients() (*Clients, error) {
	setupLogger.Info("Initializing Kubernetes client",
		sdklog.Operation("client_init"))

	config, err := rest.InClusterConfig()
	if err != nil {
		kubeconfig := os.Getenv("KUBECONFIG")
		if kubeconfig == "" {
			return nil, err
		}
		config, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return nil, err
		}
	}

	dynClient, err := dynamic.NewForConfig(config)
	if err != nil {
		return nil, err
	}

	setupLogger.Info("Kubernetes client ready",
		sdklog.Operation("client_init"))

	return &Clients{
		Dynamic: dynClient,
		Config:  config,
	}, nil
}
