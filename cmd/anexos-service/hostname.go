// hostname.go — derivação do nome do dono do pod a partir do hostname.
// Usado como nome do vértice no topologymetrics quando DEPHEALTH_NAME não
// está definido.
package main

import (
	"os"
	"regexp"
)

var (
	// Deployment: <owner>-<pod-template-hash>-<sufixo aleatório>
	deploymentRe = regexp.MustCompile(`^(.+)-[a-f0-9]{8,10}-[a-z0-9]{5}$`)
	// StatefulSet: <owner>-<ordinal>
	statefulSetRe = regexp.MustCompile(`^(.+)-\d+$`)
)

// dephealthName resolve o nome do vértice: valor configurado, dono do pod
// derivado do hostname, ou o service_id como último recurso.
func dephealthName(configured, serviceID string) string {
	if configured != "" {
		return configured
	}
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		return serviceID
	}
	return parseOwnerName(hostname)
}

// parseOwnerName extrai o nome do dono (Deployment ou StatefulSet) do
// hostname do pod. Hostname fora dos padrões do K8s é retornado como está.
func parseOwnerName(hostname string) string {
	if m := deploymentRe.FindStringSubmatch(hostname); m != nil {
		return m[1]
	}
	if m := statefulSetRe.FindStringSubmatch(hostname); m != nil {
		return m[1]
	}
	return hostname
}
