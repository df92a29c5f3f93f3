package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/shannynalayna/grid/models"
)

// listSchemas выводит все текущие схемы, проходя страницы ответа до конца.
func listSchemas(c *client, cfg *cliConfig) error {
	var schemas []models.SchemaSlice

	pageToken := ""
	for {
		query := c.baseQuery(cfg)
		if pageToken != "" {
			query.Set("page_token", pageToken)
		}

		var page models.SchemaListSlice
		if err := c.getJSON("/api/schema", query, &page); err != nil {
			return err
		}
		schemas = append(schemas, page.Data...)

		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}

	headers := []string{"NAME", "OWNER", "DESCRIPTION", "PROPERTIES"}
	rows := make([][]string, 0, len(schemas))
	for _, schema := range schemas {
		rows = append(rows, []string{
			schema.Name,
			schema.Owner,
			schema.Description,
			strconv.Itoa(len(schema.Properties)),
		})
	}

	return printRows(cfg, headers, rows)
}

// showSchema выводит одну схему вместе с определениями свойств.
func showSchema(c *client, cfg *cliConfig, name string) error {
	query := c.baseQuery(cfg)
	if cfg.AtBlock > 0 {
		query.Set("at_block", strconv.FormatInt(cfg.AtBlock, 10))
	}

	var schema models.SchemaSlice
	if err := c.getJSON("/api/schema/"+name, query, &schema); err != nil {
		return err
	}

	fmt.Printf("Name:        %s\n", schema.Name)
	fmt.Printf("Owner:       %s\n", schema.Owner)
	fmt.Printf("Description: %s\n", schema.Description)
	if schema.ServiceID != "" {
		fmt.Printf("Service ID:  %s\n", schema.ServiceID)
	}
	fmt.Println("Properties:")

	headers := []string{"NAME", "DATA_TYPE", "REQUIRED", "DESCRIPTION"}
	rows := make([][]string, 0, len(schema.Properties))
	for _, prop := range schema.Properties {
		rows = append(rows, []string{
			prop.Name,
			prop.DataType,
			strconv.FormatBool(prop.Required),
			prop.Description,
		})
	}

	return printRows(cfg, headers, rows)
}

// listOrganizations выводит все текущие организации.
func listOrganizations(c *client, cfg *cliConfig) error {
	var orgs []models.OrganizationSlice

	pageToken := ""
	for {
		query := c.baseQuery(cfg)
		if pageToken != "" {
			query.Set("page_token", pageToken)
		}

		var page models.OrganizationListSlice
		if err := c.getJSON("/api/organization", query, &page); err != nil {
			return err
		}
		orgs = append(orgs, page.Data...)

		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}

	headers := []string{"ORG_ID", "NAME", "LOCATIONS"}
	rows := make([][]string, 0, len(orgs))
	for _, org := range orgs {
		rows = append(rows, []string{
			org.OrgID,
			org.Name,
			strings.Join(org.Locations, ";"),
		})
	}

	return printRows(cfg, headers, rows)
}

// showOrganization выводит одну организацию с альтернативными
// идентификаторами и метаданными.
func showOrganization(c *client, cfg *cliConfig, orgID string) error {
	query := c.baseQuery(cfg)
	if cfg.AtBlock > 0 {
		query.Set("at_block", strconv.FormatInt(cfg.AtBlock, 10))
	}

	var org models.OrganizationSlice
	if err := c.getJSON("/api/organization/"+orgID, query, &org); err != nil {
		return err
	}

	fmt.Printf("Organization ID: %s\n", org.OrgID)
	fmt.Printf("Name:            %s\n", org.Name)
	fmt.Printf("Locations:       %s\n", strings.Join(org.Locations, "; "))
	if org.ServiceID != "" {
		fmt.Printf("Service ID:      %s\n", org.ServiceID)
	}

	if len(org.AlternateIDs) > 0 {
		fmt.Println("Alternate IDs:")
		for _, altID := range org.AlternateIDs {
			fmt.Printf("    %s: %s\n", altID.IDType, altID.ID)
		}
	}
	if len(org.Metadata) > 0 {
		fmt.Println("Metadata:")
		for _, entry := range org.Metadata {
			fmt.Printf("    %s: %s\n", entry.Key, entry.Value)
		}
	}
	return nil
}

// printRows выводит строки в выбранном формате.
func printRows(cfg *cliConfig, headers []string, rows [][]string) error {
	if cfg.Format == formatCSV {
		return printCSV(os.Stdout, headers, rows)
	}
	printTable(os.Stdout, headers, rows)
	return nil
}
