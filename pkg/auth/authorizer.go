// Copyright 2025 The kafbridge Authors.
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

// Package auth defines the access-control collaborator interface. ACL
// evaluation itself lives outside this repository.
package auth

import "context"

// Operation is the access being requested.
type Operation int8

const (
	OperationRead Operation = iota
	OperationWrite
	OperationDescribe
)

// Resource identifies what the operation targets.
type Resource struct {
	Type ResourceType
	Name string
}

type ResourceType int8

const (
	ResourceTopic ResourceType = iota
	ResourceGroup
)

// TopicResource builds a topic resource from a fully-qualified topic name.
func TopicResource(fullTopicName string) Resource {
	return Resource{Type: ResourceTopic, Name: fullTopicName}
}

// Authorizer answers access-control questions for the fetch path.
type Authorizer interface {
	Authorize(ctx context.Context, op Operation, res Resource) (bool, error)
}

// AuthorizerFunc adapts a function to the Authorizer interface.
type AuthorizerFunc func(ctx context.Context, op Operation, res Resource) (bool, error)

func (f AuthorizerFunc) Authorize(ctx context.Context, op Operation, res Resource) (bool, error) {
	return f(ctx, op, res)
}

// AllowAll authorizes every operation. Default when no ACL backend is wired.
var AllowAll Authorizer = AuthorizerFunc(func(context.Context, Operation, Resource) (bool, error) {
	return true, nil
})
