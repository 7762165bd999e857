package ingest

// TemplateFileName is the download name of the CSV template.
const TemplateFileName = "requisition_template.csv"

const template = `business_unit,requester,deliver_to_location,external_reference,item_number,description,supplier_number,quantity,unit_price,cost_center,project_number,submit
BU001,user@company.com,LOC001,REF001,ITEM001,Office Supplies,SUP001,10,25.50,CC001,PROJ001,true
BU001,user@company.com,LOC001,REF002,ITEM002,Software License,SUP002,1,1000.00,CC002,PROJ002,false
`

// Template returns a CSV file with the canonical header and two sample rows.
func Template() []byte {
	return []byte(template)
}
